// Package crawler defines the core types and collaborator interfaces of the
// subreddit archiving pipeline: the post handles enumerated by the producer,
// the queue items that carry them to workers, and the records workers hand to
// the archive writer.
package crawler
