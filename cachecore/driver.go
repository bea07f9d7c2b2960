package cachecore

// Driver identifies cache backend.
type Driver string

const (
	DriverNull      Driver = "null"
	DriverFile      Driver = "file"
	DriverMemory    Driver = "memory"
	DriverMemcached Driver = "memcached"
	DriverDynamo    Driver = "dynamodb"
	DriverSQL       Driver = "database"
	DriverRedis     Driver = "redis"
	DriverNATS      Driver = "nats"
	DriverRistretto Driver = "ristretto"
	DriverMongo     Driver = "mongodb"
)

// String returns the driver name.
func (d Driver) String() string { return string(d) }
