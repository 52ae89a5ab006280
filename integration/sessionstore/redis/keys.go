package redis

import "strconv"

const (
	fieldCreationTime        = "creationTime"
	fieldLastAccessedTime    = "lastAccessedTime"
	fieldMaxInactiveInterval = "maxInactiveInterval"
	fieldExpiresAt           = "expiresAt"
	attrPrefix               = "sessionAttr:"
	indexFieldPrefix         = "index:"
)

// keys builds every key and channel name of one namespace.
type keys struct {
	ns string
	db int
}

func (k keys) session(id string) string { return k.ns + ":sessions:" + id }

func (k keys) expires(id string) string { return k.expiresPrefix() + id }

func (k keys) expiresPrefix() string { return k.ns + ":sessions:expires:" }

func (k keys) indexPrefix() string { return k.ns + ":index:" }

func (k keys) index(name, value string) string { return k.indexPrefix() + name + ":" + value }

func (k keys) expirations() string { return k.ns + ":expirations" }

func (k keys) createdPrefix() string {
	return k.ns + ":event:" + strconv.Itoa(k.db) + ":created:"
}

func (k keys) created(id string) string { return k.createdPrefix() + id }

func (k keys) expiredChannel() string {
	return "__keyevent@" + strconv.Itoa(k.db) + "__:expired"
}

func (k keys) delChannel() string {
	return "__keyevent@" + strconv.Itoa(k.db) + "__:del"
}
