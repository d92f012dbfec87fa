package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// TableWriter is a minimal ASCII table renderer for CLI output.
type TableWriter struct {
	headers []string
	rows    [][]string
	writer  *os.File
}

func NewTableWriter(writer *os.File) *TableWriter {
	return &TableWriter{writer: writer}
}

func (t *TableWriter) SetHeader(headers []string) { t.headers = headers }

func (t *TableWriter) Append(row []string) { t.rows = append(t.rows, row) }

func (t *TableWriter) Render() {
	colWidths := make([]int, len(t.headers))
	for i, h := range t.headers {
		colWidths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(colWidths) && len(cell) > colWidths[i] {
				colWidths[i] = len(cell)
			}
		}
	}

	printRow := func(row []string) {
		fmt.Fprint(t.writer, "| ")
		for i, cell := range row {
			if i < len(colWidths) {
				fmt.Fprintf(t.writer, "%-*s | ", colWidths[i], cell)
			}
		}
		fmt.Fprintln(t.writer)
	}

	printRow(t.headers)
	sep := make([]string, len(t.headers))
	for i := range sep {
		for j := 0; j < colWidths[i]; j++ {
			sep[i] += "-"
		}
	}
	printRow(sep)
	for _, row := range t.rows {
		printRow(row)
	}
}

type masterSummary struct {
	MasterID     string `json:"master_id"`
	Status       string `json:"status"`
	TotalURLs    int    `json:"total_urls"`
	TotalBatches int    `json:"total_batches"`
	Progress     struct {
		BatchesCompleted int     `json:"BatchesCompleted"`
		URLsSucceeded    int     `json:"URLsSucceeded"`
		URLsFailed       int     `json:"URLsFailed"`
		CompletionPct    float64 `json:"CompletionPct"`
	} `json:"progress"`
}

func main() {
	base := os.Getenv("DISCOMAP_API_ADDR")
	if base == "" {
		base = "http://localhost:8080"
	}

	if len(os.Args) < 2 {
		fmt.Println("usage: ingestctl <list|show MASTER_ID>")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		listJobs(base)
	case "show":
		if len(os.Args) < 3 {
			fmt.Println("usage: ingestctl show MASTER_ID")
			os.Exit(1)
		}
		showJob(base, os.Args[2])
	default:
		fmt.Printf("unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}

func listJobs(base string) {
	body, err := get(base + "/ingest?limit=50")
	if err != nil {
		fmt.Printf("error listing jobs: %v\n", err)
		os.Exit(1)
	}

	var jobs []masterSummary
	if err := json.Unmarshal(body, &jobs); err != nil {
		fmt.Printf("error decoding response: %v\n", err)
		os.Exit(1)
	}

	table := NewTableWriter(os.Stdout)
	table.SetHeader([]string{"Master ID", "Status", "Batches", "URLs Succeeded", "URLs Failed"})
	for _, j := range jobs {
		table.Append([]string{
			j.MasterID, j.Status,
			fmt.Sprintf("%d/%d", j.Progress.BatchesCompleted, j.TotalBatches),
			fmt.Sprintf("%d", j.Progress.URLsSucceeded),
			fmt.Sprintf("%d", j.Progress.URLsFailed),
		})
	}
	table.Render()
}

func showJob(base, masterID string) {
	body, err := get(base + "/ingest/" + masterID + "?include_batches=true")
	if err != nil {
		fmt.Printf("error fetching job: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func get(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
