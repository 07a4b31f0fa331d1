package main

import "github.com/intervue/moodline/cmd"

func main() {
	cmd.Execute()
}
