package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/mmdatafocus/serviceengine_backend/workflow"
)

// outbox-replay puts DEAD lifecycle events of one org back in the dispatch
// queue once the cause (topic permissions, broker outage) is fixed.
func main() {
	orgID := flag.String("org-id", "", "Required: organization id (uuid)")
	eventIDs := flag.String("event-ids", "", "Optional: comma-separated event ids; default is every DEAD event")
	flag.Parse()

	if !utils.IsValidUUID(strings.TrimSpace(*orgID)) {
		fmt.Fprintln(os.Stderr, "--org-id is required and must be a uuid")
		os.Exit(1)
	}
	var ids []string
	for _, id := range strings.Split(*eventIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	n, err := workflow.ReplayDeadEvents(context.Background(), db, strings.TrimSpace(*orgID), ids, time.Now().UTC())
	if err != nil {
		if errors.Is(err, workflow.ErrNothingToReplay) {
			fmt.Println("no DEAD events matched")
			return
		}
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("requeued %d lifecycle events\n", n)
}
