package main

import "github.com/rand/chatbattery/internal/cmd"

func main() {
	cmd.Execute()
}
