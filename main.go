package main

import "github.com/andresmejia3/screener/cmd"

func main() {
	cmd.Execute()
}
