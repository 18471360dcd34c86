package main

import (
	"encoding/gob"
	"fmt"
	"log"
	"os"

	"Go2NetSentry/internal/model"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana/main.go <report.dat>")
		os.Exit(1)
	}
	gobFile := os.Args[1]

	file, err := os.Open(gobFile)
	if err != nil {
		log.Fatalf("Unable to open file: %v", err)
	}
	defer file.Close()

	decoder := gob.NewDecoder(file)

	var report model.CycleReport

	err = decoder.Decode(&report)
	if err != nil {
		log.Fatalf("Failed to decode gob data: %v", err)
	}

	fmt.Printf("Cycle %d at %s: %d devices, %d snapshots, %d change events\n",
		report.Cycle, report.Timestamp, len(report.Devices), len(report.Snapshots), len(report.Events))
	for _, dev := range report.Devices {
		fmt.Printf("  %-40s %-15s %s\n", dev.Key, dev.IP, dev.Hostname)
	}
	for _, ev := range report.Events {
		fmt.Printf("  [%s] %s %s port=%d %s\n", ev.Timestamp.Format("15:04:05"), ev.Category, ev.DeviceKey, ev.Port, ev.Detail)
	}
}
