// Package chat ingests chat messages and hands them to a Handler.
//
// Entrypoints:
//   - StartTwitchListener: connects to Twitch IRC for one channel and forwards
//     every PRIVMSG. Without bot credentials it joins anonymously, which is
//     enough to read chat. It reconnects with backoff until ctx is canceled.
//   - StartYouTubePoller: polls the live chat of the authenticated channel's
//     active broadcast, honoring the polling interval YouTube suggests.
//   - LiveWatcher: polls Twitch live status and can gate another runner
//     (typically the IRC listener) so it only runs while the channel is live.
//
// Nothing here interprets messages; the raffle listener decides what a
// message means.
package chat
