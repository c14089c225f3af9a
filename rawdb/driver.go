package rawdb

import (
	"database/sql"
	"regexp"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// driverName registers a sqlite3 driver variant whose connections carry a
// regexp() SQL function, which also backs the REGEXP operator. Search
// queries bind their pattern as an ordinary statement parameter and leave
// matching to Go's regexp engine.
const driverName = "sqlite3_histdb"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", regexpMatch, true)
		},
	})
}

var (
	reMu    sync.Mutex
	reCache = make(map[string]*regexp.Regexp)
)

// regexpMatch implements the regexp() SQL function. Patterns repeat for
// every row of a scan, so compiled patterns are cached.
func regexpMatch(pattern, text string) (bool, error) {
	reMu.Lock()
	re, ok := reCache[pattern]
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			reMu.Unlock()
			return false, err
		}
		if len(reCache) >= 128 {
			clear(reCache)
		}
		reCache[pattern] = re
	}
	reMu.Unlock()
	return re.MatchString(text), nil
}
