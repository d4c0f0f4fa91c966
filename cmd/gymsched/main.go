package main

import "github.com/example/gym-scheduler/cmd"

func main() {
	cmd.Execute()
}
