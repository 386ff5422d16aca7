// See sink.go for the PayloadSink/WALSink interfaces and MemorySink.
// BboltSink in bboltsink.go is the durable implementation, one bbolt
// file per collection holding a payload bucket and a WAL bucket.
package sink
