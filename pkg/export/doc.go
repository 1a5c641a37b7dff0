// Package export writes trend series and record backups to files.
//
// # Formats
//
// Trend CSV:
//   - one row per trend point: timestamp (ms) then U_A U_B U_C I_A I_B I_C
//   - channels without a valid value are empty cells
//   - can be read back with TrendFromCSV
//
// Trend JSON:
//   - export metadata, channel names, points and the segmentation result
//   - invalid values are null
//
// Record JSON:
//   - a full backup of one source in the logger column layout
//     (timestamp, mask, npoints, base64 points, cfg_* factors)
//   - can be re-imported into any writable store with ImportFromJSON
//
// # HTTP API
//
// Export endpoint: GET /v1/sources/{id}/export
// Query parameters:
//   - from: first timestamp, ms or RFC3339 (default: 0)
//   - to: last timestamp, ms or RFC3339 (default: open)
//
// Example:
//
//	curl "http://localhost:8080/v1/sources/logger-07/export?from=1720000000000" \
//	  -o logger-07.json
//
// Import endpoint: POST /v1/sources/{id}/import
//
//	curl -X POST -H "Content-Type: application/json" \
//	  --data-binary @logger-07.json \
//	  http://localhost:8080/v1/sources/logger-07/import
//
// Rows that fail validation are skipped and listed in the response; the
// rest are written in batches of MaxImportBatchSize.
package export
