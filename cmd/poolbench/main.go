// poolbench drives a pooled data source with a concurrent workload and
// reports the pool statistics.
package main

import (
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

func main() {
	cmd, err := newRootCmd()
	if err != nil {
		log.Fatal(err)
	}
	if err := cmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
