package config

const (
	StorageBackendMemory = "memory"
	StorageBackendFile   = "file"
	StorageBackendRedis  = "redis"
	StorageBackendSQLite = "sqlite"

	// DirectoryFileName はファイルバックエンドの保存先
	DirectoryFileName = "directory.json"

	// SQLiteFileName は sqlite バックエンドのデータベースファイル
	SQLiteFileName = "directory.db"

	// LinkBlocklistFileName はリンクブロックリストのファイル名
	LinkBlocklistFileName = "link_blocklist.txt"

	DefaultRedisPrefix    = "microblog"
	DefaultMaxStoredPosts = 1000
)
