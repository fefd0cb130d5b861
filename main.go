package main

import "call-reminder-backend/cmd"

func main() {
	cmd.Execute()
}
