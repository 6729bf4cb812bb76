package cli

import (
	"fmt"
	"io"
)

func printRobotHelp(w io.Writer, version string) {
	if w == nil {
		return
	}

	// keep: concise; copy-pasteable commands; stable section names
	fmt.Fprintf(w, `gridctl Robot Help (%s)

Purpose
- lazily paged tree grid over dashboard rows (agents, sessions, resource groups, volumes)
- rows come from memory (demo), sqlite, postgres or a remote page service (grpc)

Quick Start
1) gridctl seed --source sqlite
2) gridctl browse --source sqlite
3) gridctl dump --source sqlite --limit 20

Non-interactive
- gridctl dump --sort status:desc --filter region=eu-west-1 --expand-all --json
- gridctl dump --expand agent/<id> --jsonl
- gridctl dump --events page-loaded,page-failed   # grid events as JSONL on stderr

Serving
- gridctl serve --source sqlite --listen 127.0.0.1:7070
- gridctl browse --source grpc    # datasource.addr points at the server

Config
- gridctl config path | init | show | view | view clear
- env: GRID_<SECTION>_<KEY>, e.g. GRID_GRID_PAGE_SIZE=100, DATABASE_URL for postgres

Automation / scripting
- add --json / --jsonl for machine output on every command
- gridctl commands   # full command tree as JSON
`, version)
}
