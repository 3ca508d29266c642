package worktree

// CompletionSentinel is the literal marker the agent is instructed to emit
// when it believes its assigned task group is fully done. Detection is a
// plain substring scan of the iteration output.
const CompletionSentinel = "<ALL_TASKS_COMPLETE>"

// DefaultInstructions is the instruction template copied into each
// execution directory when the project does not provide its own.
const DefaultInstructions = `# Iteration instructions

You are one iteration of an autonomous loop working through a task backlog.

## Your inputs

- ` + "`" + ControlDir + `/` + TaskViewName + "`" + ` - the tasks assigned to you this iteration.
  Each task has a description, optional verification steps, and a ` + "`passes`" + ` flag.
- ` + "`" + ControlDir + `/` + ProgressName + "`" + ` - notes left by previous iterations.
  Read it before starting; earlier iterations may have learned things the hard way.

## Rules

1. Pick ONE incomplete task (` + "`\"passes\": false`" + `) and finish it completely,
   including its verification steps.
2. When a task is done and verified, set its ` + "`passes`" + ` field to ` + "`true`" + ` in
   ` + "`" + ControlDir + `/` + TaskViewName + "`" + `. Do not remove or reorder tasks. You may append
   new tasks if you discover genuinely missing work.
3. Commit your changes with a message describing what you did.
4. Append a short entry to ` + "`" + ControlDir + `/` + ProgressName + "`" + `: what you attempted,
   what worked, and anything the next iteration should know.
5. You are autonomous. Make reasonable decisions; never wait for input.

## Finishing

When EVERY task in ` + "`" + ControlDir + `/` + TaskViewName + "`" + ` has ` + "`\"passes\": true`" + `, emit
exactly this marker in your final message:

` + CompletionSentinel + `

Do not emit the marker under any other circumstance.
`
