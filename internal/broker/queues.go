package broker

import "time"

// Pipeline stage queues. Each durable stage queue is bound to the topic
// exchange under a routing key equal to the queue name and backed by a
// companion dead-letter queue. config-refresh is a non-durable broadcast
// channel with no DLQ.
const (
	QueueNewsRaw        = "news-raw"
	QueueCandidates     = "candidates"
	QueueDraftsValidate = "drafts-validate"
	QueueMarketsPublish = "markets-publish"
	QueueMarketsResolve = "markets-resolve"
	QueueDisputes       = "disputes"
	QueueConfigRefresh  = "config-refresh"
)

// StageQueues lists the durable queues in pipeline order.
var StageQueues = []string{
	QueueNewsRaw,
	QueueCandidates,
	QueueDraftsValidate,
	QueueMarketsPublish,
	QueueMarketsResolve,
	QueueDisputes,
}

// DefaultRetryDelays is the application-side backoff schedule. A message is
// retried once per tier, then parked in the stage DLQ.
var DefaultRetryDelays = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
}

const retryCountHeader = "retry-count"

func dlqName(queue string) string {
	return queue + ".dlq"
}
