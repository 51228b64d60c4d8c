package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	tick := fs.Uint64("tick", 0, "snapshot tick for networks (optional; defaults to latest)")
	limit := fs.Int("limit", 20, "result limit")
	clientID := fs.String("client", "", "client_id filter (edits)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		err = queryRows(db, `SELECT tick,path,blocks,networks FROM snapshots ORDER BY tick DESC LIMIT ?`,
			[]any{*limit}, func(rows *sql.Rows) (any, error) {
				var r struct {
					Tick     int64  `json:"tick"`
					Path     string `json:"path"`
					Blocks   int    `json:"blocks"`
					Networks int    `json:"networks"`
				}
				err := rows.Scan(&r.Tick, &r.Path, &r.Blocks, &r.Networks)
				return r, err
			})

	case "networks":
		if *tick == 0 {
			lt, err := latestSnapshotTick(db)
			if err != nil {
				fmt.Fprintln(os.Stderr, "latest tick:", err)
				os.Exit(1)
			}
			if lt == 0 {
				fmt.Fprintln(os.Stderr, "no snapshots found")
				os.Exit(2)
			}
			*tick = lt
		}
		t := *tick
		err = queryRows(db, `SELECT network_id,source_x,source_y,source_z,direction,speed,members FROM networks WHERE tick=? ORDER BY network_id`,
			[]any{t}, func(rows *sql.Rows) (any, error) {
				var r struct {
					Tick      uint64  `json:"tick"`
					NetworkID uint64  `json:"network_id"`
					Source    [3]int  `json:"source"`
					Direction string  `json:"direction"`
					Speed     float64 `json:"speed"`
					Members   int     `json:"members"`
				}
				err := rows.Scan(&r.NetworkID, &r.Source[0], &r.Source[1], &r.Source[2], &r.Direction, &r.Speed, &r.Members)
				r.Tick = t
				return r, err
			})

	case "ticks":
		err = queryRows(db, `SELECT tick,digest,edits,rejected FROM ticks ORDER BY tick DESC LIMIT ?`,
			[]any{*limit}, func(rows *sql.Rows) (any, error) {
				var r struct {
					Tick     int64  `json:"tick"`
					Digest   string `json:"digest"`
					Edits    int    `json:"edits"`
					Rejected int    `json:"rejected"`
				}
				err := rows.Scan(&r.Tick, &r.Digest, &r.Edits, &r.Rejected)
				return r, err
			})

	case "edits":
		sq := `SELECT tick,seq,client_id,op,x,y,z,block,ok,code FROM edits ORDER BY tick DESC, seq DESC LIMIT ?`
		qargs := []any{*limit}
		if c := strings.TrimSpace(*clientID); c != "" {
			sq = `SELECT tick,seq,client_id,op,x,y,z,block,ok,code FROM edits WHERE client_id=? ORDER BY tick DESC, seq DESC LIMIT ?`
			qargs = []any{c, *limit}
		}
		err = queryRows(db, sq, qargs, func(rows *sql.Rows) (any, error) {
			var (
				r struct {
					Tick     int64  `json:"tick"`
					Seq      int    `json:"seq"`
					ClientID string `json:"client_id"`
					Op       string `json:"op"`
					Pos      [3]int `json:"pos"`
					Block    string `json:"block,omitempty"`
					OK       bool   `json:"ok"`
					Code     string `json:"code,omitempty"`
				}
				block, code sql.NullString
			)
			err := rows.Scan(&r.Tick, &r.Seq, &r.ClientID, &r.Op, &r.Pos[0], &r.Pos[1], &r.Pos[2], &block, &r.OK, &code)
			r.Block, r.Code = block.String, code.String
			return r, err
		})

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-tick T] [-client C] snapshots|networks|ticks|edits")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

// queryRows runs q and prints one JSON line per scanned row.
func queryRows(db *sql.DB, q string, args []any, scan func(*sql.Rows) (any, error)) error {
	rows, err := db.Query(q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return err
		}
		printJSON(v)
	}
	return rows.Err()
}

func latestSnapshotTick(db *sql.DB) (uint64, error) {
	if db == nil {
		return 0, fmt.Errorf("nil db")
	}
	var t int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(tick),0) FROM snapshots`).Scan(&t); err != nil {
		return 0, err
	}
	if t < 0 {
		return 0, nil
	}
	return uint64(t), nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
