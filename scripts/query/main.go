package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// --- Main Function ---
func main() {
	// Define command-line flags
	mode := flag.String("mode", "api", "Query mode: 'api' to query via HTTP API, 'direct' to query ClickHouse directly.")
	apiURL := flag.String("url", "http://localhost:8080", "Base URL of the ns-api server.")

	flag.Parse()

	log.Printf("Running in '%s' mode.", *mode)

	switch *mode {
	case "api":
		queryViaAPI(*apiURL)
	case "direct":
		directQueryClickHouse()
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
}

// --- API Query Logic ---
func queryViaAPI(baseURL string) {
	url := baseURL + "/api/v1/devices"
	log.Printf("Sending request to %s", url)

	resp, err := http.Get(url)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	err = json.Indent(&prettyJSON, respBody, "", "  ")
	if err != nil {
		log.Printf("Could not prettify JSON, printing raw response:")
		fmt.Println(string(respBody))
		return
	}

	log.Println("---")
	fmt.Println(prettyJSON.String())
}

// --- Direct ClickHouse Query Logic ---
func directQueryClickHouse() {
	connOpts := clickhouse.Options{
		Addr: []string{"localhost:19000"},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "123",
		},
	}

	conn, err := clickhouse.Open(&connOpts)
	if err != nil {
		log.Fatalf("Error connecting to ClickHouse: %v", err)
	}
	defer conn.Close()

	log.Println("Successfully connected to ClickHouse.")

	const query = `
		SELECT
			DeviceKey,
			argMax(IP, Timestamp) AS IP,
			argMax(OpenPorts, Timestamp) AS OpenPorts,
			max(Timestamp) AS LastSeen
		FROM device_snapshots
		GROUP BY DeviceKey
		ORDER BY LastSeen DESC
	`

	rows, err := conn.Query(context.Background(), query)
	if err != nil {
		log.Fatalf("Error executing query: %v", err)
	}
	defer rows.Close()

	log.Println("--- Latest Device Inventory (Direct) ---")

	var foundResult bool
	for rows.Next() {
		foundResult = true
		var (
			deviceKey string
			ip        string
			openPorts []uint16
			lastSeen  interface{}
		)

		if err := rows.Scan(&deviceKey, &ip, &openPorts, &lastSeen); err != nil {
			log.Printf("Error scanning row: %v", err)
			continue
		}

		fmt.Printf("DeviceKey: %s\n", deviceKey)
		fmt.Printf("  IP: %s\n", ip)
		fmt.Printf("  OpenPorts: %v\n", openPorts)
		fmt.Printf("  LastSeen: %v\n", lastSeen)
		fmt.Println("---------------------")
	}

	if !foundResult {
		log.Println("No data found for the specified criteria.")
	}

	if err := rows.Err(); err != nil {
		log.Printf("An error occurred during row iteration: %v", err)
	}
}
