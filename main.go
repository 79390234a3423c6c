package main

import "github.com/ValentinKolb/tkv/cmd"

func main() {
	cmd.Execute()
}
