// backfill imports a historical cauldron telemetry dump into the local
// database. The dump is the raw /Data payload shape: a JSON array of
// {"timestamp": ..., "cauldron_levels": {"<id>": <level>}} entries.
//
// Usage:
//
//	backfill --db ./data/cauldronwatch.db --file cauldron.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/witchbrew/cauldronwatch/internal/models"
	"github.com/witchbrew/cauldronwatch/internal/storage"
)

type dumpEntry struct {
	Timestamp      string             `json:"timestamp"`
	CauldronLevels map[string]float64 `json:"cauldron_levels"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	dbPath := flag.String("db", "./data/cauldronwatch.db", "Path to the sqlite database")
	filePath := flag.String("file", "", "Path to the readings dump (JSON array)")
	maxReadings := flag.Int("max_readings", 100000, "Retained readings per cauldron")
	flag.Parse()

	if *filePath == "" {
		log.Fatalf("Usage: backfill --db <path> --file <dump.json>")
	}

	raw, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatalf("read dump: %v", err)
	}

	var entries []dumpEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Fatalf("parse dump: %v", err)
	}

	store, err := storage.New(*dbPath, *maxReadings)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	bar := progressbar.Default(int64(len(entries)), "importing")

	imported := 0
	skipped := 0
	for _, entry := range entries {
		ts, err := parseTimestamp(entry.Timestamp)
		if err != nil {
			skipped += len(entry.CauldronLevels)
			_ = bar.Add(1)
			continue
		}

		batch := make([]models.Reading, 0, len(entry.CauldronLevels))
		for cauldronID, level := range entry.CauldronLevels {
			r := models.Reading{CauldronID: cauldronID, Timestamp: ts, Level: level}
			if err := r.Validate(); err != nil {
				skipped++
				continue
			}
			batch = append(batch, r)
		}

		if len(batch) > 0 {
			if err := store.UpsertReadings(batch); err != nil {
				log.Fatalf("import batch at %s: %v", entry.Timestamp, err)
			}
			imported += len(batch)
		}
		_ = bar.Add(1)
	}

	if err := store.RotateReadings(); err != nil {
		log.Fatalf("rotate readings: %v", err)
	}

	fmt.Printf("imported=%d ; skipped=%d ; entries=%d\n", imported, skipped, len(entries))
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
