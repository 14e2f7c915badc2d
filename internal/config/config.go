package config

// Default remote locations for the NCEI and Census datasets.
const (
	DefaultDailyArchiveURL  = "ftp://ftp.ncei.noaa.gov/pub/data/ghcn/daily/by_year"
	DefaultStormsArchiveURL = "ftp://ftp.ncei.noaa.gov/pub/data/swdi/stormevents/csvfiles"
	DefaultStationsFileURL  = "ftp://ftp.ncei.noaa.gov/pub/data/ghcn/daily/ghcnd-stations.txt"
	DefaultZipcodeURL       = "https://www2.census.gov/geo/docs/maps-data/data/gazetteer/2024_Gazetteer/2024_Gaz_zcta_national.zip"
)

// Default sink table names.
const (
	DefaultDailyTable           = "ghcn_daily_raw"
	DefaultStormsTable          = "storm_events"
	DefaultStationsTable        = "ghcnd_stations"
	DefaultZipcodesTable        = "zipcodes"
	DefaultZipcodeStationsTable = "zipcode_stations"
	DefaultMetricsTable         = "zipcode_daily_metrics"
)

// Memory limits applied to DuckDB connections. Ingest keeps a small
// footprint because raw files stream through read_csv; the analysis
// joins need more headroom.
const (
	IngestMemoryLimit   = "256MB"
	AnalysisMemoryLimit = "512MB"
)

// Config holds settings shared across commands.
type Config struct {
	DbPath    string
	OutputDir string
}
