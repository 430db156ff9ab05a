// Package store defines the aggregate persistence interface.
//
// The job and deploy packages define their own store interfaces. The
// composite [Store] embeds both so one backend serves the whole engine:
//
//	type Store interface {
//	    job.Store
//	    deploy.Store
//
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory: in-memory store for a single process and for tests
//   - store/redis: Redis backend; also provides the distributed lock
//     backend used to serialize git access across hosts
//
// # Usage
//
//	import "github.com/zendesk/samson-sub001/store/redis"
//
//	s := redis.New(goredis.NewClient(&goredis.Options{Addr: "localhost:6379"}))
//	defer s.Close()
package store
