// Package contextwindow keeps conversation history inside a model's token
// window. It counts tokens with the same tokenizer the completion provider
// charges against, and truncates oldest-first while always retaining
// system-role turns.
//
// Truncation never splits a turn: a single non-system turn whose content
// alone exceeds the budget is dropped whole. Callers that need such content
// preserved must summarize it before handing it over.
package contextwindow
