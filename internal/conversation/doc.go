// Package conversation holds the turn model and the exchange lifecycle.
//
// # Turns
//
// A Turn is a role plus text. Roles are a closed set: system, user and
// assistant. ParseRole rejects anything else.
//
// # Assembling
//
// Assemble builds the window sent to the model:
//
//	[system prompt] + history + user(input)
//
// The system prompt is omitted when empty. History is passed through as read;
// bounding it is the session store's job.
//
// # Exchanges
//
// The Service opens an Exchange per request:
//
//	ex, err := svc.OpenChat(ctx, "default", "hello")
//	defer ex.Close()
//	for {
//	    frag, err := ex.Stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
//	err = ex.Commit(ctx, answer)
//
// Nothing is written to history until Commit, and Commit appends the user
// turn and the assistant turn together. A failed or abandoned exchange leaves
// the session exactly as it was.
package conversation
