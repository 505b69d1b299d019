// Package internaldefs holds the metric names, counter families and bucket
// bounds shared by the Prometheus and OTel exporters. Prometheus publishes one
// flat series per counter; OTel groups them into [Families] with attributes.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
