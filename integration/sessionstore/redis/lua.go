package redis

import "github.com/redis/go-redis/v9"

// luaRename moves a session hash to a new id together with its shadow key,
// expiration entry and index memberships.
// KEYS[1] = old hash, KEYS[2] = new hash, KEYS[3] = old shadow, KEYS[4] = new shadow, KEYS[5] = expirations
// ARGV[1] = old id, ARGV[2] = new id, ARGV[3] = index key prefix
// Returns 1 when renamed, 0 when the old hash does not exist.
var luaRename = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
redis.call('RENAME', KEYS[1], KEYS[2])
if redis.call('EXISTS', KEYS[3]) == 1 then
    redis.call('RENAME', KEYS[3], KEYS[4])
end
local score = redis.call('ZSCORE', KEYS[5], ARGV[1])
if score then
    redis.call('ZREM', KEYS[5], ARGV[1])
    redis.call('ZADD', KEYS[5], score, ARGV[2])
end
local fields = redis.call('HGETALL', KEYS[2])
for i = 1, #fields, 2 do
    if string.sub(fields[i], 1, 6) == 'index:' then
        local key = ARGV[3] .. string.sub(fields[i], 7) .. ':' .. fields[i + 1]
        redis.call('SREM', key, ARGV[1])
        redis.call('SADD', key, ARGV[2])
    end
end
return 1
`)

// luaDelete removes a session with its index memberships and expiration entry.
// In "expired" mode the session is removed only when expiresAt is non-zero and
// older than now, and the shadow key is only touched so Redis fires its own
// expired notification. In "force" mode the shadow key is deleted.
// KEYS[1] = hash, KEYS[2] = shadow, KEYS[3] = expirations
// ARGV[1] = id, ARGV[2] = index key prefix, ARGV[3] = now (unix ms), ARGV[4] = mode
// Returns {status, field1, value1, ...} where status is missing, alive or deleted.
var luaDelete = redis.NewScript(`
local fields = redis.call('HGETALL', KEYS[1])
if #fields == 0 then
    redis.call('ZREM', KEYS[3], ARGV[1])
    return {'missing'}
end

local status = 'deleted'
if ARGV[4] == 'expired' then
    local expiresAt = 0
    for i = 1, #fields, 2 do
        if fields[i] == 'expiresAt' then
            expiresAt = tonumber(fields[i + 1])
        end
    end
    if expiresAt == 0 or expiresAt >= tonumber(ARGV[3]) then
        status = 'alive'
    end
end

if status == 'deleted' then
    for i = 1, #fields, 2 do
        if string.sub(fields[i], 1, 6) == 'index:' then
            redis.call('SREM', ARGV[2] .. string.sub(fields[i], 7) .. ':' .. fields[i + 1], ARGV[1])
        end
    end
    redis.call('ZREM', KEYS[3], ARGV[1])
    redis.call('DEL', KEYS[1])
    if ARGV[4] == 'expired' then
        redis.call('EXISTS', KEYS[2])
    else
        redis.call('DEL', KEYS[2])
    end
end

local out = {status}
for i = 1, #fields do
    out[#out + 1] = fields[i]
end
return out
`)
