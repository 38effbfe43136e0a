// Package creator implements the archive-construction session.
//
// A session moves through three states:
//
//	unconfigured --Start--> started --Finish--> finalized
//
// Configuration is legal only before Start, submission only between Start
// and Finish, and Finish runs exactly once. Guest-supplied items are bound
// into a foreign runtime and dispatched by method name; values that
// already implement zimbridge.Item bypass the bridge. The first foreign
// failure aborts the whole session: the engine build stops and the error
// is reported both from the failing call and from Finish.
package creator
