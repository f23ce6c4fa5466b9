package rawconn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// BuildDSN merges the credentials and driver properties of params into the
// data source name understood by driver. Drivers without special handling
// get params.URL unchanged.
func BuildDSN(driver string, params Params) (string, error) {
	switch driver {
	case "mysql":
		return mysqlDSN(params)
	case "postgres", "pq":
		return postgresDSN(params)
	default:
		return params.URL, nil
	}
}

func mysqlDSN(params Params) (string, error) {
	cfg, err := mysql.ParseDSN(params.URL)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	if params.Username != "" {
		cfg.User = params.Username
	}
	if params.Password != "" {
		cfg.Passwd = params.Password
	}
	if len(params.Properties) > 0 {
		if cfg.Params == nil {
			cfg.Params = make(map[string]string, len(params.Properties))
		}
		for k, v := range params.Properties {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN(), nil
}

func postgresDSN(params Params) (string, error) {
	dsn := params.URL
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		converted, err := pq.ParseURL(dsn)
		if err != nil {
			return "", fmt.Errorf("parse postgres url: %w", err)
		}
		dsn = converted
	}

	pairs := make([]string, 0, 2+len(params.Properties))
	if dsn != "" {
		pairs = append(pairs, dsn)
	}
	if params.Username != "" {
		pairs = append(pairs, "user="+quotePostgres(params.Username))
	}
	if params.Password != "" {
		pairs = append(pairs, "password="+quotePostgres(params.Password))
	}

	keys := make([]string, 0, len(params.Properties))
	for k := range params.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, k+"="+quotePostgres(params.Properties[k]))
	}
	return strings.Join(pairs, " "), nil
}

// quotePostgres quotes a key/value connection string value.
func quotePostgres(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
