package main

import (
	"log"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
