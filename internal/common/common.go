package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	ContentTypeJSON        = "application/json"
	ContentTypeOctetStream = "application/octet-stream"
)

// API paths
const (
	PathHealth     = "/health"
	PathExtraction = "/api/v1/extraction"
	PathUpload     = PathExtraction + "/upload"
	PathJobStatus  = PathExtraction + "/job-status"
)

// Form fields and query parameters
const (
	FormFieldFiles = "files"
	QueryJobID     = "job_id"
)

// Blob metadata keys attached to every uploaded document.
const (
	MetaJobID            = "job_id"
	MetaDocID            = "doc_id"
	MetaOriginalFilename = "original_filename"
)

// Defaults and limits
const (
	SQLiteBusyTimeoutMS     = 5000
	DefaultMongoDatabase    = "JobDatabase"
	DefaultMongoCollection  = "JobContainer"
	DefaultBlobContainer    = "pdf-uploads"
	DefaultNotifyQueue      = "documents_uploaded"
	DefaultConfigFile       = "config.yaml"
	ConfigPathEnv           = "DOCINTAKE_CONFIG"
	MultipartMemoryFraction = 4
)

// Store and provider identifiers used in configuration
const (
	JobStoreMongoDB       = "mongodb"
	JobStoreSQLite        = "sqlite"
	ObjectStoreAzure      = "azure"
	ObjectStoreMinio      = "minio"
	ObjectStoreFileSystem = "filesystem"
)
