// Package crawler defines the run types and collaborator interfaces shared by
// the discovery service: the API, queue, worker, stores and publisher.
package crawler
