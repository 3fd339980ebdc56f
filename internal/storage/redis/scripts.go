package redis

const (
	// appendEventsScript pushes a batch onto the queue, trims it to the
	// configured bound and bumps the lifetime counter in one round trip.
	appendEventsScript = `
local queue_key = KEYS[1]     -- avtrack:events:queue
local total_key = KEYS[2]     -- avtrack:events:total

local max_len = tonumber(ARGV[1])

for i = 2, #ARGV do
  redis.call('RPUSH', queue_key, ARGV[i])
end

if max_len > 0 then
  redis.call('LTRIM', queue_key, -max_len, -1)
end

redis.call('INCRBY', total_key, #ARGV - 1)

return redis.call('LLEN', queue_key)
`

	// recordSessionScript folds one event into a session summary and keeps
	// the active index in step with it.
	recordSessionScript = `
local session_key = KEYS[1]   -- avtrack:session:{sessionID}
local active_set = KEYS[2]    -- avtrack:sessions:active

local session_id = ARGV[1]
local media_id = ARGV[2]
local last_event = ARGV[3]
local position = ARGV[4]
local timestamp = ARGV[5]
local final = ARGV[6]

-- Keep the first timestamp seen as the session start
if redis.call('HEXISTS', session_key, 'started_at') == 0 then
  redis.call('HSET', session_key, 'started_at', timestamp)
end

redis.call('HSET', session_key,
  'session_id', session_id,
  'media_id', media_id,
  'last_event', last_event,
  'updated_at', timestamp
)

-- Interaction events carry no position and leave the last one in place
if position ~= '' then
  redis.call('HSET', session_key, 'position', position)
elseif redis.call('HEXISTS', session_key, 'position') == 0 then
  redis.call('HSET', session_key, 'position', '0')
end

redis.call('HINCRBY', session_key, 'events', 1)

if final == '1' then
  redis.call('HSET', session_key, 'active', '0')
  redis.call('SREM', active_set, session_id)
  -- Closed sessions expire after 7 days (604800 seconds)
  redis.call('EXPIRE', session_key, 604800)
else
  redis.call('HSET', session_key, 'active', '1')
  redis.call('SADD', active_set, session_id)
  redis.call('PERSIST', session_key)
end

return redis.call('HGET', session_key, 'events')
`
)
