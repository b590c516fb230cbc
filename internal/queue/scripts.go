// internal/queue/scripts.go
package queue

import "github.com/redis/go-redis/v9"

// dequeueScript promotes due delayed jobs, then moves the best waiting job to active.
// Parked jobs that come due are pushed back by the park delay instead of promoted.
//
// KEYS: waiting, delayed, active, paused
// ARGV: now ms, job key prefix, park delay ms, promote limit, priority weight
var dequeueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[4]) == 1 then
  return false
end

local now = tonumber(ARGV[1])
local weight = tonumber(ARGV[5])
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now, 'LIMIT', 0, tonumber(ARGV[4]))
for _, id in ipairs(due) do
  local jk = ARGV[2] .. id
  if redis.call('EXISTS', jk) == 0 then
    redis.call('ZREM', KEYS[2], id)
  else
    local pause = redis.call('HGET', jk, 'pause')
    if pause and pause ~= '' then
      local runAt = string.format('%.0f', now + tonumber(ARGV[3]))
      redis.call('ZADD', KEYS[2], runAt, id)
      redis.call('HSET', jk, 'run_at', runAt)
    else
      local prio = tonumber(redis.call('HGET', jk, 'priority') or '0') or 0
      redis.call('ZREM', KEYS[2], id)
      redis.call('ZADD', KEYS[1], string.format('%.0f', now - prio * weight), id)
      redis.call('HSET', jk, 'phase', 'waiting')
    end
  end
end

while true do
  local popped = redis.call('ZPOPMIN', KEYS[1])
  if #popped == 0 then
    return false
  end
  local id = popped[1]
  local jk = ARGV[2] .. id
  if redis.call('EXISTS', jk) == 1 then
    redis.call('ZADD', KEYS[3], now, id)
    redis.call('HSET', jk, 'phase', 'active', 'started_at', ARGV[1])
    redis.call('HINCRBY', jk, 'attempts', 1)
    return id
  end
end
`)

// releaseLockScript deletes the lock only if it still holds our token.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// setFieldScript writes one hash field only when the job still exists, so a
// job completed mid-pass is not resurrected as a bare hash.
//
// KEYS: job key
// ARGV: field, value
var setFieldScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)
