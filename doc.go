// Package gridkit is a data-engineering kit for landing Formula 1 statistics
// in partitioned columnar storage. It fetches paginated JSON from an
// Ergast-style REST API, normalizes raw records against fixed per-entity
// schemas, stamps ingestion audit metadata, writes batches as columnar
// segments partitioned by season, and tracks ingestion progress in a durable
// per-entity watermark with conditional-commit semantics.
//
// The ingest pipeline for one entity is a single sequential pass through the
// stages below. Interfaces and basic implementations of each stage live in
// this package; implementations which rely on other software (object stores,
// embedded databases, Parquet and Avro codecs) are in sub-packages.
//
// 1. Source
//
//    A gridkit.Source is at the beginning of every run. It produces raw
//    records one at a time as map[string]interface{} and returns io.EOF when
//    the remote listing is exhausted. The ergast sub-package implements a
//    Source over the paginated F1 REST API. It is not the job of a Source to
//    massage the data in any way - that falls to the Schema which is the next
//    stage. Sources classify their failures: transient conditions (timeouts,
//    rate limits, server errors) are wrapped so the Runner can retry them
//    with backoff, and anything else aborts the run.
//
// 2. Schema
//
//    A Schema is an ordered column contract: field names, types, nullability,
//    and where to find each value in the raw object. Normalize is a pure
//    function from one raw record to one typed Record, or to a rejection
//    which names the offending field. Rejections are counted and isolated;
//    they never abort a batch.
//
// 3. Stamper
//
//    The Stamper appends the audit columns (ingestion timestamp, source tag,
//    batch id, schema version) shared by every record of a batch. It never
//    mutates its input and is deterministic given the same batch metadata.
//
// 4. Writer
//
//    The Writer lands a batch in partition-keyed storage. It composes a
//    SegmentEncoder (Parquet, Avro OCF, or NDJSON) with a SegmentStore
//    (local filesystem or S3). Segment object names derive from the batch id
//    alone, so a retried batch overwrites its own segments rather than
//    duplicating records.
//
// 5. WatermarkStore
//
//    The WatermarkStore records the highest cursor known to be fully
//    ingested for each entity. It is read once when a run starts and
//    committed exactly once after the Writer confirms durability. A commit
//    which does not strictly advance the stored cursor fails. Bolt, LevelDB,
//    and Postgres implementations are provided.
//
// The Runner drives these stages as a small state machine and reports
// per-run counts. Entity runs share no mutable state, so distinct entities
// may be ingested concurrently.
package gridkit
