// pmjourney - product management practice server and CLI
package main

import "github.com/ts3486/pm-journey-sub000/cmd/pmjourney/commands"

func main() {
	commands.Execute()
}
