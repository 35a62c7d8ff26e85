package sqlite

var tables = map[string]string{
	"lease": `CREATE TABLE IF NOT EXISTS lease(
ip_address TEXT PRIMARY KEY,
mac_address TEXT NOT NULL,
start_at DATETIME NOT NULL
)`,
}
