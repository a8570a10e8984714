package stream

import "hash/fnv"

// PartitionFor maps a record key to one of partitionCount partitions.
func PartitionFor(key []byte, partitionCount uint32) uint32 {
	hash := fnv.New32()
	hash.Write(key)
	return hash.Sum32() % partitionCount
}
