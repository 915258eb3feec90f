// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package chat implements the moderation and routing core of a multiplayer
// chat server.
//
// Every inbound message passes through a [Pipeline]: anti-abuse checks,
// emoji replacement, channel routing, formatting, color translation and
// mention highlighting, in that order. After the pipeline has finished, the
// [AutoReplyConsumer] answers messages that match a keyword rule.
//
// # Core Types
//
// [AbuseTracker] keeps per-actor rate, duplicate and mute state and decides
// whether a message is allowed. State for different actors never contends.
//
// [RuleStore] holds the ordered auto-reply rules. [RuleMatcher] finds the
// first matching rule, compiling regular expressions once through a shared
// [PatternCache].
//
// [ChannelRegistry] tracks which channel each actor speaks in and filters
// recipients by channel, partition and radius.
//
// [Service] wires the components to a host through the [Presence], [Sink],
// [CommandExecutor] and [Scheduler] interfaces, and swaps configuration
// snapshots atomically on reload.
//
// # Host Integration
//
// A host that does not embed this package can drive it over HTTP with
// [AdminAPI]. The API keeps actors in a [Roster] and queues output in a
// [Mailbox] that the host drains per actor.
//
// # Sub-packages
//
//   - chatfmt translates color codes and builds renderer formats.
//   - emoji replaces shortcodes with glyphs.
package chat
