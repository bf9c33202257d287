package constants

const (
	// DateFormat is the layout of the date folder segment in object keys
	DateFormat = "2006-01-02"
	// TimeFormat is the layout of the time folder segment below the date folder
	TimeFormat = "15-04"

	// StagingDir is the local directory where dumps are staged before being uploaded
	StagingDir = "/tmp/dump2s3"

	// DeleteBatchSize is the maximum number of keys per batched delete request
	DeleteBatchSize = 1000

	// DefaultDestPrefix is the bucket folder backups are placed under if none is configured
	DefaultDestPrefix = "databases"
)

// DefaultExcludedDatabases are the system schemas that are never dumped
var DefaultExcludedDatabases = []string{"information_schema", "performance_schema", "mysql", "sys"}
