package command

import (
	"fmt"
	"io"
	"strings"
)

// CompletionCommand prints a shell completion script covering command
// names and, for run and check, YAML document paths.
type CompletionCommand struct {
	*BaseCommand
	registry *Registry
}

func NewCompletionCommand(registry *Registry) *CompletionCommand {
	return &CompletionCommand{
		BaseCommand: NewBaseCommand("completion", "Generate shell completion scripts", "completion [bash|zsh|fish]"),
		registry:    registry,
	}
}

func (c *CompletionCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 1 {
		fmt.Fprintf(stderr, "Too many arguments: %v\n", args[1:])
		return fmt.Errorf("too many arguments")
	}
	shell := "bash"
	if len(args) == 1 {
		shell = strings.ToLower(args[0])
	}
	commands := strings.Join(c.registry.List(), " ")
	switch shell {
	case "bash":
		fmt.Fprintf(stdout, bashCompletion, commands)
	case "zsh":
		fmt.Fprintf(stdout, zshCompletion, commands)
	case "fish":
		for _, name := range c.registry.List() {
			cmd, _ := c.registry.Get(name)
			fmt.Fprintf(stdout, "complete -c cardrunner -n __fish_use_subcommand -a %s -d %q\n", name, cmd.Description())
		}
		fmt.Fprintln(stdout, "complete -c cardrunner -n '__fish_seen_subcommand_from run check' -k -a '(__fish_complete_suffix .yaml)'")
	default:
		fmt.Fprintf(stderr, "Unsupported shell: %s (want bash, zsh or fish)\n", shell)
		return fmt.Errorf("unsupported shell: %s", shell)
	}
	return nil
}

const bashCompletion = `# bash completion for cardrunner
_cardrunner() {
    local cur="${COMP_WORDS[COMP_CWORD]}"
    if [[ ${COMP_CWORD} -eq 1 ]]; then
        COMPREPLY=($(compgen -W "%s" -- "${cur}"))
        return
    fi
    case "${COMP_WORDS[1]}" in
    run|check)
        COMPREPLY=($(compgen -f -X '!*.y*ml' -- "${cur}") $(compgen -d -- "${cur}"))
        ;;
    esac
}
complete -F _cardrunner cardrunner
`

const zshCompletion = `#compdef cardrunner
_cardrunner() {
    if (( CURRENT == 2 )); then
        compadd -- %s
        return
    fi
    case "${words[2]}" in
    run|check) _files -g '*.y(a|)ml' ;;
    esac
}
compdef _cardrunner cardrunner
`
