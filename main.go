package main

import (
	_ "time/tzdata"

	"github.com/jmehdipour/wa-broadcaster/cmd"
)

func main() {
	cmd.Execute()
}
