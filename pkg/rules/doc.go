/*
Package rules holds the pure, side-effect-free action validation and
execution logic shared by the authoritative engine and the client mirror.

Keeping a single implementation is a hard requirement: the mirror runs
disconnected from the engine, and its optimistic predictions only agree
with the authoritative result because both sides execute literally the
same code.
*/
package rules
