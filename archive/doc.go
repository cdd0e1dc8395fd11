// Package archive ships materialized snapshot trees to object storage
// as compressed tar streams and restores them. Sinks exist for a local
// directory and, in subpackages, MinIO and S3; the S3 subpackage also
// keeps a DynamoDB catalog of archived snapshots.
package archive
