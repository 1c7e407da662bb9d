package conf

// Database types
const (
	DatabaseSQLite = "sqlite"
	DatabaseMySQL  = "mysql"
)

// Taxonomy sources
const (
	TaxonomySourceDatabase = "database"
	TaxonomySourceRemote   = "remote"
)

// EnvPrefix prefixes every environment override, e.g. IDCONSENSUS_DATABASE_TYPE.
const EnvPrefix = "IDCONSENSUS"
