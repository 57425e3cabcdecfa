// Package strategy implements the strategy sequencer: an ordered list of
// sub-strategies, each with its own candidate generator and stopping
// rule, advanced one tell at a time until every sub-strategy is done.
//
// Sequencer state is derived entirely from recorded observations and the
// number of observations recorded under each sub-strategy, so a session
// can be rebuilt from the trial store with Restore. Counters that are
// never persisted (asks issued, last fit) only influence which candidate
// is proposed next, never whether the experiment is finished.
//
// Models are consumed through the Model capability interface. The
// sequencer never inspects concrete model types; factories are looked up
// by name in a Registry.
package strategy
