package runner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rubyHarness evaluates setup and submission in a fresh binding. Ruby
// returns the value of the last expression, assignments included, so no
// rewriting is needed.
type rubyHarness struct{}

func (rubyHarness) Files(req Request, marker string) (map[string]string, error) {
	src, err := rubyString(req.Setup + "\n" + req.Code)
	if err != nil {
		return nil, err
	}
	capture := "false"
	if req.Capture {
		capture = "true"
	}

	return map[string]string{
		"main.rb": fmt.Sprintf(rubyTemplate, src, capture, marker, exitCompile, exitRuntime),
	}, nil
}

func (rubyHarness) Diagnostics(output string) []string {
	return tailDiagnostics(output)
}

// rubyString quotes s as a double-quoted Ruby literal. JSON escapes are
// valid in Ruby; '#' is escaped too so the literal never interpolates.
func rubyString(s string) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(data), "#", `\u0023`), nil
}

const rubyTemplate = `require "json"
require "set"

SOURCE = %s
CAPTURE = %s
MARKER = %q
EXIT_COMPILE = %d
EXIT_RUNTIME = %d

def drill_norm(v, depth = 0)
  return "[depth limit]" if depth > 64

  case v
  when nil, true, false, Integer, String then v
  when Float
    return { "$float" => "NaN" } if v.nan?
    return { "$float" => (v.positive? ? "Infinity" : "-Infinity") } if v.infinite?
    v
  when Symbol then v.to_s
  when Hash then v.each_with_object({}) { |(k, x), h| h[k.to_s] = drill_norm(x, depth + 1) }
  when Array, Set then v.map { |x| drill_norm(x, depth + 1) }
  when Struct then drill_norm(v.to_h, depth + 1)
  when Range then v.size.to_f.finite? ? v.to_a.map { |x| drill_norm(x, depth + 1) } : v.inspect
  else v.inspect
  end
end

begin
  RubyVM::InstructionSequence.compile(SOURCE, "submission.rb")
rescue SyntaxError => e
  warn e.message
  exit EXIT_COMPILE
end

value = nil
begin
  value = Object.new.instance_eval { binding }.eval(SOURCE, "submission.rb", 1)
rescue SystemExit
  raise
rescue Exception => e
  location = (e.backtrace || []).find { |l| l.start_with?("submission.rb") }
  warn "#{e.class}: #{e.message}"
  warn location if location
  exit EXIT_RUNTIME
end

if CAPTURE
  $stdout.write("\n" + MARKER + JSON.generate(drill_norm(value)) + "\n")
  $stdout.flush
end
`
