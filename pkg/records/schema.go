package records

import "fmt"

// Redis key helpers
//
// Keys are namespaced so several graph deployments can share a Redis server.
//
// Record key pattern: nodegraph:{namespace}:record:{type}:{number}
// Type index pattern: nodegraph:{namespace}:records:{type}

// RecordKey returns the Redis hash key holding one record.
func RecordKey(namespace, nodeType string, number int64) string {
	return fmt.Sprintf("nodegraph:%s:record:%s:%d", namespace, nodeType, number)
}

// TypeIndexKey returns the Redis set key listing the record numbers of a type.
func TypeIndexKey(namespace, nodeType string) string {
	return fmt.Sprintf("nodegraph:%s:records:%s", namespace, nodeType)
}
