package executor

import "fmt"

const solveTemplate = `You are an expert competitive programmer.

Solve LeetCode problem #%s.

Requirements:
- Provide a complete, optimal Python solution.
- Explain the approach briefly before the code.
- State the time and space complexity.
%s`

const testCaseTemplate = `You are an expert software tester.

Generate thorough test cases for the following code. Cover normal inputs,
edge cases, and invalid inputs. Return only runnable Python test code
inside a single code block.

Code:
%s`

const modifyTemplate = `You are an expert software engineer.

Modify the following code according to the instructions. Preserve behavior
that the instructions do not ask to change. Return only the full modified
code inside a single code block.

Instructions:
%s

Code:
%s`

func solvePrompt(problemNumber, extra string) string {
	suffix := ""
	if extra != "" {
		suffix = "\nAdditional instructions:\n" + extra
	}
	return fmt.Sprintf(solveTemplate, problemNumber, suffix)
}

func testCasePrompt(code string) string {
	return fmt.Sprintf(testCaseTemplate, code)
}

func modifyPrompt(instructions, code string) string {
	return fmt.Sprintf(modifyTemplate, instructions, code)
}
