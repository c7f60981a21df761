package llm

import (
	"sync"
	"time"
)

// CostAccuracy indicates reliability of cost value.
type CostAccuracy string

const (
	// CostMeasured indicates provider reported exact token count.
	CostMeasured CostAccuracy = "measured"

	// CostEstimated indicates cost calculated from published pricing.
	CostEstimated CostAccuracy = "estimated"

	// CostUnavailable indicates insufficient data for cost calculation.
	CostUnavailable CostAccuracy = "unavailable"
)

// CostInfo contains cost details with accuracy tracking.
type CostInfo struct {
	// Amount is the cost in the specified currency.
	Amount float64

	// Currency is the currency code (always "USD" for now).
	Currency string

	// Accuracy indicates how reliable this cost value is.
	Accuracy CostAccuracy

	// Source indicates where this cost came from.
	Source string
}

// Common cost sources.
const (
	// SourceProvider indicates cost from provider API usage data.
	SourceProvider = "provider"

	// SourcePricingTable indicates cost calculated from local pricing config.
	SourcePricingTable = "pricing_table"

	// SourceEstimated indicates cost approximated via tokenizer.
	SourceEstimated = "estimated"
)

// CostRecord tracks the cost of a single LLM request made on behalf of
// one Problem's stage execution.
type CostRecord struct {
	// ID is a unique record identifier.
	ID string

	// RequestID uniquely identifies the provider request.
	RequestID string

	// TaskID is the task this request was made under.
	TaskID string

	// ProblemID is the normalized problem id the request served.
	ProblemID string

	// Stage is the stage executor that issued the request
	// (fetch, generate, upload, solve).
	Stage string

	// Endpoint is the typed llmpool endpoint the request went through
	// (generation, solution, ocr, summary).
	Endpoint string

	// UserID is the user who owns the task.
	UserID string

	// Provider is the name of the provider that handled the request.
	Provider string

	// Model is the model ID used for the request.
	Model string

	// Timestamp is when the request was made.
	Timestamp time.Time

	// Duration is how long the request took.
	Duration time.Duration

	// Usage contains token consumption information.
	Usage TokenUsage

	// Cost contains cost information with accuracy tracking.
	// nil if cost unavailable.
	Cost *CostInfo

	// Metadata contains additional tracking information (correlation IDs, etc).
	Metadata map[string]string
}

// CostTracker tracks LLM request costs in memory. It supports
// aggregation by provider, model, and task — the same rollups an
// ojoctl operator would want after a batch run.
type CostTracker struct {
	mu      sync.RWMutex
	records []CostRecord
}

// NewCostTracker creates a new cost tracker.
func NewCostTracker() *CostTracker {
	return &CostTracker{
		records: make([]CostRecord, 0),
	}
}

// Track records a cost for an LLM request.
func (t *CostTracker) Track(record CostRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, record)
}

// GetRecords returns all cost records.
func (t *CostTracker) GetRecords() []CostRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := make([]CostRecord, len(t.records))
	copy(records, t.records)
	return records
}

// GetRecordsByTask returns all records for a specific task.
func (t *CostTracker) GetRecordsByTask(taskID string) []CostRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var filtered []CostRecord
	for _, record := range t.records {
		if record.TaskID == taskID {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

// GetRecordsByProvider returns all records for a specific provider.
func (t *CostTracker) GetRecordsByProvider(provider string) []CostRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var filtered []CostRecord
	for _, record := range t.records {
		if record.Provider == provider {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

// AggregateByProvider calculates total cost and usage by provider.
func (t *CostTracker) AggregateByProvider() map[string]CostAggregate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	aggregates := make(map[string]CostAggregate)
	for _, record := range t.records {
		agg := aggregates[record.Provider]
		addRecord(&agg, record)
		aggregates[record.Provider] = agg
	}
	return aggregates
}

// AggregateByTask calculates total cost and usage by task.
func (t *CostTracker) AggregateByTask() map[string]CostAggregate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	aggregates := make(map[string]CostAggregate)
	for _, record := range t.records {
		agg := aggregates[record.TaskID]
		addRecord(&agg, record)
		aggregates[record.TaskID] = agg
	}
	return aggregates
}

// addRecord folds one CostRecord into an in-progress CostAggregate.
func addRecord(agg *CostAggregate, record CostRecord) {
	if record.Cost != nil {
		agg.TotalCost += record.Cost.Amount

		switch record.Cost.Accuracy {
		case CostMeasured:
			agg.AccuracyBreakdown.Measured++
		case CostEstimated:
			agg.AccuracyBreakdown.Estimated++
		case CostUnavailable:
			agg.AccuracyBreakdown.Unavailable++
		}
	} else {
		agg.AccuracyBreakdown.Unavailable++
	}

	agg.TotalRequests++
	agg.TotalTokens += record.Usage.TotalTokens
	agg.TotalPromptTokens += record.Usage.PromptTokens
	agg.TotalCompletionTokens += record.Usage.CompletionTokens
	agg.TotalCacheCreationTokens += record.Usage.CacheCreationTokens
	agg.TotalCacheReadTokens += record.Usage.CacheReadTokens

	agg.Accuracy = determineAccuracy(agg.AccuracyBreakdown)
}

// determineAccuracy calculates overall accuracy from breakdown.
// Returns "measured" if all are measured, "unavailable" if all are unavailable,
// or "estimated" for any other combination.
func determineAccuracy(breakdown AccuracyBreakdown) CostAccuracy {
	total := breakdown.Measured + breakdown.Estimated + breakdown.Unavailable

	if total == 0 {
		return CostUnavailable
	}
	if breakdown.Measured == total {
		return CostMeasured
	}
	if breakdown.Unavailable == total {
		return CostUnavailable
	}

	return CostEstimated
}

// Clear removes all cost records.
func (t *CostTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make([]CostRecord, 0)
}

// CostAggregate contains aggregated cost and usage statistics.
type CostAggregate struct {
	// TotalCost is the sum of all costs in USD.
	TotalCost float64

	// TotalRequests is the number of requests.
	TotalRequests int

	// TotalTokens is the sum of all tokens used.
	TotalTokens int

	// TotalPromptTokens is the sum of all prompt tokens.
	TotalPromptTokens int

	// TotalCompletionTokens is the sum of all completion tokens.
	TotalCompletionTokens int

	// TotalCacheCreationTokens is the sum of all cache creation tokens.
	TotalCacheCreationTokens int

	// TotalCacheReadTokens is the sum of all cache read tokens.
	TotalCacheReadTokens int

	// Accuracy indicates the overall accuracy of aggregated costs.
	// "measured" if all costs are measured, "estimated" if mixed, "unavailable" if none.
	Accuracy CostAccuracy

	// AccuracyBreakdown shows count of requests by accuracy level.
	AccuracyBreakdown AccuracyBreakdown
}

// AccuracyBreakdown tracks count of requests by accuracy level.
type AccuracyBreakdown struct {
	// Measured is count of requests with measured costs.
	Measured int

	// Estimated is count of requests with estimated costs.
	Estimated int

	// Unavailable is count of requests with unavailable costs.
	Unavailable int
}
