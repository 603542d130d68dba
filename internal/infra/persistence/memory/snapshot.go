package memory

import (
	"encoding/json"
	"fmt"
)

// Record kinds the row-oriented backends keep one table each for.
const (
	TableAnimals = "animals"
	TableEvents  = "events"
)

// Tables lists the record tables in write order.
func Tables() []string {
	return []string{TableAnimals, TableEvents}
}

// Row is one encoded record of a commit.
type Row struct {
	Table    string
	ID       string
	AnimalID string
	Payload  []byte
}

// Rows encodes the records of the commit. Animals come first so a reload
// never meets an event whose animal is missing.
func (c Commit) Rows() ([]Row, error) {
	rows := make([]Row, 0, len(c.Animals)+len(c.Events))
	for _, a := range c.Animals {
		payload, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode animal %s: %w", a.ID, err)
		}
		rows = append(rows, Row{Table: TableAnimals, ID: a.ID, AnimalID: a.ID, Payload: payload})
	}
	for _, e := range c.Events {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		rows = append(rows, Row{Table: TableEvents, ID: e.ID, AnimalID: e.AnimalID, Payload: payload})
	}
	return rows, nil
}

// DecodeRow adds one stored record to the snapshot. Unknown tables are
// ignored so databases with retired tables still load.
func (s *Snapshot) DecodeRow(table string, payload []byte) error {
	switch table {
	case TableAnimals:
		var a Animal
		if err := json.Unmarshal(payload, &a); err != nil {
			return fmt.Errorf("decode %s: %w", table, err)
		}
		if s.Animals == nil {
			s.Animals = make(map[string]Animal)
		}
		s.Animals[a.ID] = a
	case TableEvents:
		var e Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", table, err)
		}
		if s.Events == nil {
			s.Events = make(map[string]Event)
		}
		s.Events[e.ID] = e
	}
	return nil
}
