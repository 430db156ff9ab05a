package redis

// Redis key naming conventions. Every key starts with the store's prefix
// ("samson:" by default) to avoid collisions.

const defaultKeyPrefix = "samson:"

// jobKey returns the Hash key for a job: samson:job:{id}
func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

// jobIndexKey is the Sorted Set of job IDs scored by creation time.
func (s *Store) jobIndexKey() string { return s.prefix + "jobs" }

// deployKey returns the Hash key for a deploy: samson:deploy:{id}
func (s *Store) deployKey(id string) string { return s.prefix + "deploy:" + id }

// deployIndexKey is the Sorted Set of deploy IDs scored by creation time.
func (s *Store) deployIndexKey() string { return s.prefix + "deploys" }

// lockKey returns the key holding a lock's owner: samson:lock:{id}
func (s *Store) lockKey(id string) string { return s.prefix + "lock:" + id }
