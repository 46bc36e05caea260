/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package main

import "github.com/mautops/record-gin/cmd"

func main() {
	cmd.Execute()
}
